// Package partyname makes up human-readable names for parties by pairing
// a random adjective with a random food name.
package partyname

import (
	"embed"
	"fmt"
	"math/rand"
	"strings"
)

//go:embed adjectives.txt food_names.txt
var wordFiles embed.FS

const maxRetries = 5

// ActiveSet answers whether a name already belongs to an active party.
type ActiveSet interface {
	PartyExists(name string) (bool, error)
}

type Generator struct {
	adjectives []string
	foods      []string
}

func New() (*Generator, error) {
	adjectives, err := readWords("adjectives.txt")
	if err != nil {
		return nil, err
	}
	foods, err := readWords("food_names.txt")
	if err != nil {
		return nil, err
	}
	return &Generator{adjectives: adjectives, foods: foods}, nil
}

func readWords(name string) ([]string, error) {
	b, err := wordFiles.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var words []string
	for _, line := range strings.Split(string(b), "\n") {
		if w := strings.TrimSpace(line); w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("word list %s is empty", name)
	}
	return words, nil
}

// Generate proposes a name not currently held by an active party. After a
// few fresh attempts it falls back to padding the last candidate with
// random digits until it is free.
func (g *Generator) Generate(active ActiveSet) (string, error) {
	name := g.pick()
	for retries := 0; retries < maxRetries; retries++ {
		taken, err := active.PartyExists(name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = g.pick()
	}
	for {
		taken, err := active.PartyExists(name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name += fmt.Sprintf("%d", rand.Intn(10))
	}
}

func (g *Generator) pick() string {
	return g.adjectives[rand.Intn(len(g.adjectives))] + g.foods[rand.Intn(len(g.foods))]
}
