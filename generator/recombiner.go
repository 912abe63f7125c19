package generator

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"grapelm/task"
)

// Recombiner is an in-process generator. Each output sequence is a
// single-point crossover of two randomly picked seed sequences.
type Recombiner struct {
	rand *rand.Rand
}

func NewRecombiner() *Recombiner {
	return &Recombiner{}
}

// NewSeededRecombiner returns a Recombiner with a deterministic source.
// It is not safe for concurrent use.
func NewSeededRecombiner(seed uint64) *Recombiner {
	return &Recombiner{rand: rand.New(rand.NewPCG(seed, seed))}
}

func (r *Recombiner) Generate(ctx context.Context, p *task.Params) (string, error) {
	seeds := task.SeedLines(strings.ToUpper(p.SeedSeqs))
	if len(seeds) == 0 {
		return "", fmt.Errorf("no seed sequences")
	}

	f, err := os.Create(p.OutputFile)
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	for i := 0; i < p.GenNum; i++ {
		if err := ctx.Err(); err != nil {
			f.Close()
			return "", err
		}
		a, b := seeds[r.intN(len(seeds))], seeds[r.intN(len(seeds))]
		cut := r.intN(len(a) + 1)
		if cut > len(b) {
			cut = len(b)
		}
		if _, err := fmt.Fprintln(w, a[:cut]+b[cut:]); err != nil {
			f.Close()
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return p.OutputFile, nil
}

func (r *Recombiner) intN(n int) int {
	if r.rand != nil {
		return r.rand.IntN(n)
	}
	return rand.IntN(n)
}
