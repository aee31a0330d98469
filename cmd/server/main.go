package main

import (
	"fmt"
	"log"

	"github.com/Tyrowin/relaychat/internal/llm"
	"github.com/Tyrowin/relaychat/internal/server"
)

func main() {
	fmt.Println("Starting RelayChat server...")

	config := server.NewConfigFromEnv()

	llmClient, err := llm.NewOllamaClient(config.AI.OllamaURL, config.AI.Model, config.AI.InferenceTimeout)
	if err != nil {
		log.Fatalf("Failed to create inference client: %v", err)
	}

	auth, err := server.NewAuthManager(config.CredentialsFile, config.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}

	registry := server.NewRegistry(config, llmClient)

	gateway := server.NewGateway(config, registry, auth)
	go func() {
		log.Fatal(gateway.ListenAndServe())
	}()

	chatServer := server.NewServer(config, registry, auth)
	log.Fatal(chatServer.ListenAndServe())
}
