package pty_test

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/nixpig/jobcontrol/internal/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamer(t *testing.T) {
	t.Parallel()

	t.Run("Test basic scenarios", func(t *testing.T) {
		t.Parallel()

		scenarios := map[string]struct {
			payload []byte
			subs    int
			lateSub bool
		}{
			"Single subscriber": {
				payload: []byte("Hello, world!"),
				subs:    1,
			},
			"Multiple subscribers": {
				payload: []byte("Hello, world!"),
				subs:    5,
			},
			"Late subscriber": {
				payload: []byte("Hello, world!"),
				subs:    5,
				lateSub: true,
			},
			"Empty data": {
				payload: []byte(""),
				subs:    1,
			},
			"Large data": {
				// Larger than initial buffer size of 4KB
				payload: bytes.Repeat([]byte("x"), 1024*1024),
				subs:    1,
			},
		}

		for scenario, config := range scenarios {
			t.Run(scenario, func(t *testing.T) {
				t.Parallel()

				s := pty.NewStreamer(io.NopCloser(bytes.NewReader(config.payload)))

				if config.lateSub {
					<-s.Done()
				}

				errCh := make(chan error, config.subs)

				var wg sync.WaitGroup

				for range config.subs {
					wg.Go(func() {
						sub := s.Subscribe()
						defer sub.Close()

						got, err := io.ReadAll(sub)
						if err != nil {
							errCh <- fmt.Errorf("expected read all not to return error: got '%v'", err)
						}

						if string(got) != string(config.payload) {
							errCh <- fmt.Errorf(
								"expected stream data to match: got %d bytes, want %d bytes",
								len(got),
								len(config.payload),
							)
						}
					})
				}

				wg.Wait()

				close(errCh)

				for err := range errCh {
					t.Error(err)
				}
			})
		}
	})

	t.Run("Test concurrent writes", func(t *testing.T) {
		t.Parallel()

		writes := 1000
		subs := 100
		payload := []byte("Hello, world!")

		wantData := strings.Repeat(string(payload), writes)

		pr, pw := io.Pipe()

		s := pty.NewStreamer(pr)

		errCh := make(chan error, subs)

		var writerWg sync.WaitGroup

		for range writes {
			writerWg.Go(func() {
				pw.Write(payload)
			})
		}

		var readerWg sync.WaitGroup

		for range subs {
			readerWg.Go(func() {
				sub := s.Subscribe()
				defer sub.Close()

				got, err := io.ReadAll(sub)
				if err != nil {
					errCh <- fmt.Errorf("expected read all not to return error: got '%v'", err)
				}

				if string(got) != wantData {
					errCh <- fmt.Errorf("expected stream data to match: got %d bytes", len(got))
				}
			})
		}

		writerWg.Wait()
		pw.Close()
		readerWg.Wait()

		close(errCh)

		for err := range errCh {
			t.Error(err)
		}
	})

	t.Run("Test read from closed sub", func(t *testing.T) {
		t.Parallel()

		pr, pw := io.Pipe()
		defer pw.Close()

		s := pty.NewStreamer(pr)

		sub := s.Subscribe()
		sub.Close()

		n, err := sub.Read([]byte{})
		assert.Zero(t, n)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("Test closing a closed sub", func(t *testing.T) {
		t.Parallel()

		s := pty.NewStreamer(io.NopCloser(strings.NewReader("Hello, world!")))

		sub := s.Subscribe()

		require.NoError(t, sub.Close())
		assert.Equal(t, io.ErrClosedPipe, sub.Close())
	})

	t.Run("Test concurrent access of single sub (race)", func(t *testing.T) {
		t.Parallel()

		s := pty.NewStreamer(io.NopCloser(strings.NewReader("Hello, world!")))

		sub := s.Subscribe()

		var wg sync.WaitGroup

		wg.Go(func() {
			sub.Read(make([]byte, 4))
		})

		wg.Go(func() {
			sub.Close()
		})

		wg.Wait()
	})

	t.Run("Test bytes returns buffered output", func(t *testing.T) {
		t.Parallel()

		s := pty.NewStreamer(io.NopCloser(strings.NewReader("Hello, world!")))

		<-s.Done()

		assert.Equal(t, "Hello, world!", string(s.Bytes()))
	})
}
