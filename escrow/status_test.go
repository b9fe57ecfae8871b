package escrow

import (
	"errors"
	"testing"
)

func TestCanTransition_HappyPath(t *testing.T) {
	path := []Status{StatusCreated, StatusFunded, StatusShipped, StatusConfirmed, StatusReleased, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_DisputeDetours(t *testing.T) {
	for _, from := range []Status{StatusFunded, StatusShipped, StatusConfirmed} {
		if !CanTransition(from, StatusDispute) {
			t.Fatalf("expected %s -> dispute to be legal", from)
		}
	}
	for _, to := range []Status{StatusReleased, StatusCompleted, StatusCancelled} {
		if !CanTransition(StatusDispute, to) {
			t.Fatalf("expected dispute -> %s to be legal", to)
		}
	}
}

func TestCanTransition_RejectsSkipsAndReversals(t *testing.T) {
	illegal := [][2]Status{
		{StatusCreated, StatusShipped},
		{StatusCreated, StatusReleased},
		{StatusFunded, StatusConfirmed},
		{StatusFunded, StatusCancelled},
		{StatusShipped, StatusFunded},
		{StatusConfirmed, StatusCompleted},
		{StatusReleased, StatusConfirmed},
		{StatusCompleted, StatusReleased},
		{StatusCancelled, StatusFunded},
		{StatusCompleted, StatusDispute},
	}
	for _, pair := range illegal {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}

func TestValidateTransition_Error(t *testing.T) {
	err := ValidateTransition(StatusCreated, StatusReleased)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := ValidateTransition(StatusCreated, StatusFunded); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusFunded, StatusShipped, StatusConfirmed, StatusReleased, StatusCompleted, StatusCancelled, StatusDispute} {
		if !ValidStatus(s) {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if ValidStatus(Status("escrowed")) {
		t.Fatal("expected unknown status to be invalid")
	}
}
