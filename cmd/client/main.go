package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Tyrowin/relaychat/internal/client"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "server address (host:port)")
	serverName := flag.String("servername", "", "TLS server name override")
	rootCA := flag.String("ca", "", "PEM bundle of trusted certificates (self-signed deployments)")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification (testing only)")
	flag.Parse()

	agent := client.New(client.Config{
		Addr:               *addr,
		ServerName:         *serverName,
		RootCAFile:         *rootCA,
		InsecureSkipVerify: *insecure,
	}, os.Stdin, os.Stdout)

	if err := agent.Run(); err != nil {
		log.Fatalf("Client error: %v", err)
	}
	fmt.Println("Bye!")
}
