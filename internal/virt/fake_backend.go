// ABOUTME: This file provides a deterministic in-memory backend for tests
// and local development. It records every request it accepts and supports
// failure injection per VM name or for the next call.
package virt

import (
	"context"
	"fmt"
	"sync"
)

// FakeBackend implements Backend with in-memory state. It is deterministic
// and safe for concurrent use.
type FakeBackend struct {
	mu        sync.Mutex
	vms       map[string]CreateRequest // id -> accepted request
	byName    map[string]string        // name -> id
	requests  []CreateRequest
	nextSeq   int
	failNext  error
	failNames map[string]string // name -> failure message
	pingErr   error
}

// NewFakeBackend returns a FakeBackend with empty state.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		vms:       make(map[string]CreateRequest),
		byName:    make(map[string]string),
		failNames: make(map[string]string),
		nextSeq:   1,
	}
}

// FailNext makes the next CreateVM call return err, once.
func (b *FakeBackend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// FailName makes every CreateVM call for the given VM name fail with msg.
func (b *FakeBackend) FailName(name, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNames[name] = msg
}

// SetPingError makes Ping return err.
func (b *FakeBackend) SetPingError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pingErr = err
}

// Requests returns a copy of every request CreateVM has seen, accepted or
// not, in call order.
func (b *FakeBackend) Requests() []CreateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CreateRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// VM returns the accepted request for the given id.
func (b *FakeBackend) VM(id string) (CreateRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.vms[id]
	return req, ok
}

func (b *FakeBackend) CreateVM(ctx context.Context, req CreateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)

	if err := req.Validate(); err != nil {
		return "", err
	}
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return "", err
	}
	if msg, ok := b.failNames[req.Name]; ok {
		return "", fmt.Errorf("create vm %s: %s", req.Name, msg)
	}
	if _, exists := b.byName[req.Name]; exists {
		return "", fmt.Errorf("vm name %q already exists", req.Name)
	}

	id := fmt.Sprintf("vm-%04d", b.nextSeq)
	b.nextSeq++
	b.vms[id] = req
	b.byName[req.Name] = id
	return id, nil
}

func (b *FakeBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

var _ Backend = (*FakeBackend)(nil)
