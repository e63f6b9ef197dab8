// Package permission decides whether the assistant may open the microphone.
package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Gate requests microphone access. Implementations may prompt the user and
// cache the decision.
type Gate interface {
	Request(ctx context.Context) (bool, error)
}

// Static always returns the same decision.
type Static bool

// Allow is a Gate that always grants access.
const Allow = Static(true)

// Deny is a Gate that always refuses access.
const Deny = Static(false)

// Request implements Gate.
func (s Static) Request(context.Context) (bool, error) {
	return bool(s), nil
}

// Prompt asks on a terminal the first time access is requested and
// remembers a grant. A refusal is asked again next time.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex
	granted bool
}

// NewPrompt creates a terminal prompt gate.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// Request implements Gate.
func (p *Prompt) Request(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.granted {
		return true, nil
	}

	fmt.Fprint(p.out, "Allow microphone access? [y/N] ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-ch:
		if r.err != nil && r.line == "" {
			if r.err == io.EOF {
				return false, nil
			}
			return false, r.err
		}
		answer := strings.ToLower(strings.TrimSpace(r.line))
		p.granted = answer == "y" || answer == "yes"
		return p.granted, nil
	}
}

// Mock is a Gate for tests that counts requests.
type Mock struct {
	mu      sync.Mutex
	allow   bool
	err     error
	request int
}

// NewMock creates a Mock returning allow.
func NewMock(allow bool) *Mock {
	return &Mock{allow: allow}
}

// WithError makes Request fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// SetAllow changes the decision.
func (m *Mock) SetAllow(allow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allow = allow
}

// Request implements Gate.
func (m *Mock) Request(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.request++
	if m.err != nil {
		return false, m.err
	}
	return m.allow, nil
}

// CallCount returns the number of requests.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request
}

var (
	_ Gate = Static(false)
	_ Gate = (*Prompt)(nil)
	_ Gate = (*Mock)(nil)
)
