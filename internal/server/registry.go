// Package server implements the shared room registry: lazy creation on first
// join, startup seeding, and name listing.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Tyrowin/relaychat/internal/llm"
)

// Registry maps room names to live rooms. Rooms are created lazily on first
// join or seeded at startup, and are never destroyed while the process runs.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	historyLimit int
	aiConfig     AIConfig
	llmClient    llm.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry. AI-flavored rooms get a responder
// backed by client; a nil client downgrades AI joins to plain rooms.
func NewRegistry(cfg *Config, client llm.Client) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rooms:        make(map[string]*Room),
		historyLimit: cfg.HistoryLimit,
		aiConfig:     cfg.AI,
		llmClient:    client,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// GetOrCreate returns the room with the given name, creating it with the
// requested flavor on first use. The flavor of an existing room is never
// changed by a later join.
func (reg *Registry) GetOrCreate(name string, flavor RoomFlavor) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[name]; ok {
		return room
	}

	room := NewRoom(name, reg.historyLimit)
	if flavor == FlavorAI {
		if reg.llmClient == nil {
			log.Printf("No inference backend configured; creating %s as a plain room", name)
		} else {
			responder := NewAIResponder(room, reg.llmClient, reg.aiConfig)
			room.SetInterceptor(responder)
			go responder.Run(reg.ctx)
			log.Printf("AI room created: %s", name)
		}
	}
	reg.rooms[name] = room
	return room
}

// Get returns the named room, or nil if it does not exist.
func (reg *Registry) Get(name string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[name]
}

// Names returns a sorted snapshot of all room names.
func (reg *Registry) Names() []string {
	reg.mu.Lock()
	names := make([]string, 0, len(reg.rooms))
	for name := range reg.rooms {
		names = append(names, name)
	}
	reg.mu.Unlock()

	sort.Strings(names)
	return names
}

// Seed pre-creates a plain room for each non-empty line of r. Rooms created
// at runtime are not written back to the seed source.
func (reg *Registry) Seed(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		reg.GetOrCreate(name, FlavorPlain)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read room seed list: %w", err)
	}
	return nil
}

// SeedFile seeds from a one-name-per-line file. A missing file is not an
// error; the server just starts with no pre-created rooms.
func (reg *Registry) SeedFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Room seed file %s not found; starting with no rooms", path)
			return nil
		}
		return fmt.Errorf("open room seed file: %w", err)
	}
	defer file.Close()

	return reg.Seed(file)
}

// Close stops the consumer goroutines of all AI rooms.
func (reg *Registry) Close() {
	reg.cancel()
}
