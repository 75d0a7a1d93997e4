package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownResult(t *testing.T) {
	boom := errors.New("listener closed badly")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"clean", nil, nil},
		{"grace period over", context.DeadlineExceeded, nil},
		{"joined hub timeouts", errors.Join(context.DeadlineExceeded, context.DeadlineExceeded), nil},
		{"wrapped cancel", fmt.Errorf("hub: %w", context.Canceled), nil},
		{"other failure", boom, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shutdownResult(tt.err))
		})
	}
}
