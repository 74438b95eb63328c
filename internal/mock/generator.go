// Package mock seeds the development backend with demo family tree entries
// and keeps mutating them so live snapshots are observable.
package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sefarad-mx/portal/internal/config"
	"github.com/sefarad-mx/portal/internal/docstore"
	"github.com/sefarad-mx/portal/internal/livequery"
)

// maxEntries caps the collection size; at the cap, ticks withdraw or revise
// entries instead of adding.
const maxEntries = 60

// pruneEvery is how often, in ticks, a leaf entry is withdrawn.
const pruneEvery = 7

var (
	givenNames = []string{"Abraham", "Sara", "Isaac", "Rebeca", "Luis", "Leonor", "Francisco", "Isabel",
		"Diego", "Catalina", "Manuel", "Mariana", "Tomás", "Juana", "Gaspar", "Beatriz"}
	surnames = []string{"Carvajal", "Abravanel", "Benveniste", "Toledano", "Nasi", "Mendes",
		"Rodríguez", "de León", "Pardo", "Halevi", "Gómez", "Núñez"}
	places = []string{"Toledo", "Lisboa", "Sevilla", "Ciudad de México", "Pánuco", "Zacatecas",
		"Monterrey", "Puebla", "Guadalajara", "Salónica", "Ámsterdam", "Livorno"}
	sources = []string{"parish register", "inquisition record", "ketubah", "notarial act",
		"ship manifest", "family bible", "census"}
)

type person struct {
	id         string
	name       string
	born       int
	place      string
	parentID   string
	generation int
	revision   int
}

func (p *person) fields() map[string]any {
	f := map[string]any{
		"name":       p.name,
		"birthYear":  p.born,
		"birthplace": p.place,
		"generation": p.generation,
		"revision":   p.revision,
	}
	if p.parentID != "" {
		f["parentId"] = p.parentID
	}
	return f
}

// Generator writes demo people into one tenant's public family tree.
type Generator struct {
	store    *docstore.Store
	path     string
	interval time.Duration
	seed     int
	logger   *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	people []*person
}

func NewGenerator(store *docstore.Store, cfg config.MockConfig, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	appID := cfg.AppID
	if appID == "" {
		appID = config.DefaultAppID
	}
	return &Generator{
		store:    store,
		path:     livequery.CollectionPath(appID),
		interval: interval,
		seed:     cfg.Seed,
		logger:   logger.With("component", "mock"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Path is the collection the generator writes to.
func (g *Generator) Path() string {
	return g.path
}

// Start writes the seed entries synchronously and then mutates the tree every
// interval until ctx is done.
func (g *Generator) Start(ctx context.Context) error {
	for i := 0; i < g.seed; i++ {
		if err := g.addPerson(ctx, ""); err != nil {
			return fmt.Errorf("seed demo tree: %w", err)
		}
	}
	g.logger.Info("demo tree seeded", "path", g.path, "entries", g.seed)

	go g.run(ctx)
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			if err := g.Step(ctx, tick); err != nil && ctx.Err() == nil {
				g.logger.Warn("demo tree step failed", "tick", tick, "error", err)
			}
		}
	}
}

// Step applies one mutation: every seventh tick withdraws a leaf entry,
// every third revises one, the others add a child of a random person (or a
// new root when the tree is empty).
func (g *Generator) Step(ctx context.Context, tick int) error {
	n, err := g.store.Count(ctx, g.path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	known := len(g.people)
	g.mu.Unlock()

	full := n >= maxEntries
	switch {
	case known > 1 && (full || tick%pruneEvery == 0):
		return g.prune(ctx)
	case known > 0 && (full || tick%3 == 0):
		return g.revise(ctx)
	}
	parent := ""
	if known > 0 {
		g.mu.Lock()
		parent = g.people[g.rng.Intn(known)].id
		g.mu.Unlock()
	}
	return g.addPerson(ctx, parent)
}

func (g *Generator) addPerson(ctx context.Context, parentID string) error {
	g.mu.Lock()
	p := &person{
		name:       givenNames[g.rng.Intn(len(givenNames))] + " " + surnames[g.rng.Intn(len(surnames))],
		born:       1480 + g.rng.Intn(60),
		place:      places[g.rng.Intn(len(places))],
		parentID:   parentID,
		generation: 1,
	}
	for _, q := range g.people {
		if q.id == parentID {
			p.generation = q.generation + 1
			p.born = q.born + 18 + g.rng.Intn(20)
			p.name = givenNames[g.rng.Intn(len(givenNames))] + " " + lastName(q.name)
			break
		}
	}
	g.mu.Unlock()

	doc, err := g.store.Add(ctx, g.path, p.fields())
	if err != nil {
		return err
	}
	p.id = doc.ID

	g.mu.Lock()
	g.people = append(g.people, p)
	g.mu.Unlock()
	g.logger.Debug("demo person added", "id", p.id, "name", p.name, "parent", parentID)
	return nil
}

func (g *Generator) revise(ctx context.Context) error {
	g.mu.Lock()
	p := g.people[g.rng.Intn(len(g.people))]
	p.revision++
	fields := p.fields()
	fields["source"] = sources[g.rng.Intn(len(sources))]
	g.mu.Unlock()

	if _, err := g.store.Set(ctx, g.path, p.id, fields); err != nil {
		return err
	}
	g.logger.Debug("demo person revised", "id", p.id, "revision", p.revision)
	return nil
}

// prune withdraws a random person without children, as when a record is
// retracted after review.
func (g *Generator) prune(ctx context.Context) error {
	g.mu.Lock()
	parents := make(map[string]bool, len(g.people))
	for _, p := range g.people {
		if p.parentID != "" {
			parents[p.parentID] = true
		}
	}
	var leaves []*person
	for _, p := range g.people {
		if !parents[p.id] {
			leaves = append(leaves, p)
		}
	}
	p := leaves[g.rng.Intn(len(leaves))]
	g.mu.Unlock()

	if err := g.store.Delete(ctx, g.path, p.id); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}

	g.mu.Lock()
	for i, q := range g.people {
		if q == p {
			g.people = append(g.people[:i], g.people[i+1:]...)
			break
		}
	}
	g.mu.Unlock()
	g.logger.Debug("demo person withdrawn", "id", p.id, "name", p.name)
	return nil
}

// lastName returns everything after the given name, keeping compound
// surnames such as "de León".
func lastName(full string) string {
	for i, r := range full {
		if r == ' ' {
			return full[i+1:]
		}
	}
	return full
}
