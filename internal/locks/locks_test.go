package locks

import (
	"sync"
	"testing"
	"time"
)

func TestDoSerializesPerKey(t *testing.T) {
	m := NewManager()

	const goroutines = 100
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do("req-1", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("Expected %d increments, got %d (lost updates)", goroutines, counter)
	}
}

func TestLockUnlock(t *testing.T) {
	m := NewManager()

	m.Lock("ord-1")
	done := make(chan struct{})
	go func() {
		m.Lock("ord-1")
		m.Unlock("ord-1")
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Second Lock acquired while first still held")
	default:
	}

	m.Unlock("ord-1")
	<-done
}

func TestIndependentKeys(t *testing.T) {
	m := NewManager()

	m.Lock("req-1")
	defer m.Unlock("req-1")

	// A different key must not block.
	if err := m.Do("req-2", func() error { return nil }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
}
