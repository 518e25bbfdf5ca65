package workers

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeVerifier struct {
	used      bool
	txHash    string
	submitErr error
}

func (f *fakeVerifier) NullifierUsed(ctx context.Context, nullifierHex string) (bool, error) {
	return f.used, nil
}

func (f *fakeVerifier) SubmitProof(ctx context.Context, signer *Signer, sub SubmissionView) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.txHash, nil
}

type fakeTEE struct {
	deliverErr error
}

func (f *fakeTEE) Deliver(ctx context.Context, submissionID string, addr, msg []byte) error {
	return f.deliverErr
}

type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*SubmissionRecord
	verified map[string]string
	failed   map[string]bool
	delivered map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:   map[string]*SubmissionRecord{},
		verified:  map[string]string{},
		failed:    map[string]bool{},
		delivered: map[string]bool{},
	}
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}

func (s *fakeStore) MarkVerified(ctx context.Context, id, tx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[id] = tx
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = true
	return nil
}

func (s *fakeStore) MarkDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[id] = true
	return nil
}

func TestQueueDrainsOnChainJobToVerified(t *testing.T) {
	store := newFakeStore()
	store.records["sub-1"] = &SubmissionRecord{ID: "sub-1", Nullifier: "ab"}
	signer, err := NewSigner(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	onChainWorker := NewOnChainWorker(store, &fakeVerifier{used: false, txHash: "0xdeadbeef"}, signer)
	teeWorker := NewTEEDeliveryWorker(store, &fakeTEE{})
	queue := NewQueue(onChainWorker, teeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Run(ctx, 1, 1)

	queue.EnqueueOnChainVerify("sub-1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		tx, ok := store.verified["sub-1"]
		store.mu.Unlock()
		if ok {
			if tx != "0xdeadbeef" {
				t.Fatalf("expected tx hash 0xdeadbeef, got %s", tx)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submission was never marked verified")
}

func TestQueueFailsSubmissionWhenNullifierAlreadyUsed(t *testing.T) {
	store := newFakeStore()
	store.records["sub-2"] = &SubmissionRecord{ID: "sub-2", Nullifier: "cd"}
	signer, _ := NewSigner(testPrivateKeyHex)

	onChainWorker := NewOnChainWorker(store, &fakeVerifier{used: true}, signer)
	teeWorker := NewTEEDeliveryWorker(store, &fakeTEE{})
	queue := NewQueue(onChainWorker, teeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Run(ctx, 1, 1)
	queue.EnqueueOnChainVerify("sub-2")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		failed := store.failed["sub-2"]
		store.mu.Unlock()
		if failed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submission with already-used nullifier was never marked failed")
}

func TestQueueDeliversTEEJob(t *testing.T) {
	store := newFakeStore()
	store.records["sub-3"] = &SubmissionRecord{ID: "sub-3", EncryptedAddressBlob: []byte("a"), EncryptedMessageBlob: []byte("m")}
	signer, _ := NewSigner(testPrivateKeyHex)

	onChainWorker := NewOnChainWorker(store, &fakeVerifier{}, signer)
	teeWorker := NewTEEDeliveryWorker(store, &fakeTEE{})
	queue := NewQueue(onChainWorker, teeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Run(ctx, 1, 1)
	queue.EnqueueTEEDelivery("sub-3")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		delivered := store.delivered["sub-3"]
		store.mu.Unlock()
		if delivered {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submission was never marked delivered")
}

func TestQueueDropsJobWhenFull(t *testing.T) {
	// A queue with no running workers still accepts up to queueCapacity jobs
	// and silently drops the rest, per the non-blocking enqueue contract.
	onChainWorker := NewOnChainWorker(newFakeStore(), &fakeVerifier{}, nil)
	teeWorker := NewTEEDeliveryWorker(newFakeStore(), &fakeTEE{})
	queue := NewQueue(onChainWorker, teeWorker)

	for i := 0; i < queueCapacity+10; i++ {
		queue.EnqueueOnChainVerify("overflow")
	}
	if len(queue.onChain) != queueCapacity {
		t.Fatalf("expected channel to be capped at %d, got %d", queueCapacity, len(queue.onChain))
	}
}
