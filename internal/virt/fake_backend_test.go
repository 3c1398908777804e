package virt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRequest(name, token string) CreateRequest {
	return CreateRequest{
		Token:     token,
		Name:      name,
		ClusterID: "c1",
		MemoryMiB: 1024,
		CPUs:      2,
	}
}

func TestFakeBackendCreatesDeterministicIDs(t *testing.T) {
	b := NewFakeBackend()

	first, err := b.CreateVM(context.Background(), validRequest("web-01", "tok-1"))
	require.NoError(t, err)
	require.Equal(t, "vm-0001", first)

	second, err := b.CreateVM(context.Background(), validRequest("web-02", "tok-2"))
	require.NoError(t, err)
	require.Equal(t, "vm-0002", second)

	stored, ok := b.VM(first)
	require.True(t, ok)
	require.Equal(t, "tok-1", stored.Token)
}

func TestFakeBackendRejectsDuplicateNames(t *testing.T) {
	b := NewFakeBackend()
	_, err := b.CreateVM(context.Background(), validRequest("web-01", "tok-1"))
	require.NoError(t, err)

	_, err = b.CreateVM(context.Background(), validRequest("web-01", "tok-2"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestFakeBackendValidatesRequests(t *testing.T) {
	b := NewFakeBackend()
	_, err := b.CreateVM(context.Background(), CreateRequest{Name: "incomplete"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Rejected requests are still recorded for asserts.
	require.Len(t, b.Requests(), 1)
}

func TestFakeBackendFailureInjection(t *testing.T) {
	b := NewFakeBackend()

	b.FailNext(errors.New("manager offline"))
	_, err := b.CreateVM(context.Background(), validRequest("web-01", "tok-1"))
	require.EqualError(t, err, "manager offline")

	// FailNext is one-shot.
	_, err = b.CreateVM(context.Background(), validRequest("web-01", "tok-1"))
	require.NoError(t, err)

	b.FailName("db-01", "no capacity")
	_, err = b.CreateVM(context.Background(), validRequest("db-01", "tok-3"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no capacity")
}

func TestFakeBackendPing(t *testing.T) {
	b := NewFakeBackend()
	require.NoError(t, b.Ping(context.Background()))

	b.SetPingError(errors.New("unreachable"))
	require.Error(t, b.Ping(context.Background()))
}
