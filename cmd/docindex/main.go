package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	gemini "github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	openai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chenjiayi8/docindex/engine"
	"github.com/chenjiayi8/docindex/indexer"
)

func createEmbeddingFunction(cfg *indexer.Config) (embeddings.EmbeddingFunction, error) {
	if cfg.OpenAI != nil {
		ef, err := openai.NewOpenAIEmbeddingFunction(
			cfg.OpenAI.ApiKey,
			openai.WithModel(openai.EmbeddingModel(cfg.OpenAI.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedding function: %w", err)
		}

		return ef, nil
	}

	if cfg.Gemini != nil {
		ef, err := gemini.NewGeminiEmbeddingFunction(
			gemini.WithAPIKey(cfg.Gemini.ApiKey),
			gemini.WithDefaultModel(embeddings.EmbeddingModel(cfg.Gemini.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
		}

		return ef, nil
	}

	return nil, errors.New("invalid embeddings provider configuration")
}

func main() {
	reset := flag.Bool("reset", false, "Rebuild the vector collections from scratch")
	watch := flag.Bool("watch", false, "Keep running and reindex on filesystem changes")
	cfgPath := flag.String("config", "cfg/config.yaml", "Configuration file")
	flag.Parse()

	cfg, err := indexer.ReadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		log.Fatal(err)
	}

	logger := slog.Default()
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			log.Fatalf("failed to open log file: %s", err)
		}
		defer logFile.Close()

		logger = slog.New(slog.NewJSONHandler(logFile, nil))
	}

	ef, err := createEmbeddingFunction(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.NewChromaEngine(ctx, engine.ChromaConfig{
		BaseURL:       cfg.ChromaAddr,
		Collection:    cfg.Collection,
		EmbeddingFunc: ef,
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		RequestSize:   cfg.RequestSize,
		Reset:         *reset,
	})
	if err != nil {
		log.Fatal(err)
	}

	ix, err := indexer.Open(cfg, eng, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer ix.Close()

	go func() {
		if _, err := ix.Build(ctx); err != nil {
			log.Fatal(err)
		}

		if *watch {
			if err := ix.Watch(ctx); err != nil {
				log.Fatal(err)
			}
		}
	}()

	srv := NewIndexServer(ix)
	sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", cfg.ServerAddr)))
	log.Println(sse.Start(cfg.ServerAddr))
}
