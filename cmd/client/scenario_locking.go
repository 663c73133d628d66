package main

import (
	"context"
	"errors"
	"fmt"

	fslib "github.com/AnishMulay/simplefs/clients/library"
	"github.com/AnishMulay/simplefs/internal/communication"
)

// RunLockScenario walks two clients through the write-lock rules: one writer at a time,
// readers always allowed, no deletes while open, and locks released on exit.
func RunLockScenario(ctx context.Context, serverAddr string, comm communication.Communicator) error {
	fmt.Println("=======================================================")
	fmt.Println("SCENARIO: Write lock walkthrough")
	fmt.Println("=======================================================")

	alice := fslib.NewClient(serverAddr, comm)
	bob := fslib.NewClient(serverAddr, comm)
	const name = "scenario_lock.txt"

	step := func(title string, err error, want error) error {
		switch {
		case want == nil && err == nil, want != nil && errors.Is(err, want):
			fmt.Printf("  ✓ %s\n", title)
			return nil
		case want == nil:
			return fmt.Errorf("%s: %w", title, err)
		default:
			return fmt.Errorf("%s: expected %v, got %v", title, want, err)
		}
	}

	fmt.Println("\n=== Phase 1: Setup ===")
	if err := step("alice creates "+name, alice.Create(ctx, name, 1), nil); err != nil {
		return err
	}

	fmt.Println("\n=== Phase 2: Contention ===")
	fd, err := alice.Open(ctx, name, true)
	if err := step("alice opens read-write", err, nil); err != nil {
		return err
	}
	_, err = bob.Open(ctx, name, true)
	if err := step("bob is refused the write lock", err, fslib.ErrLocked); err != nil {
		return err
	}
	if err := step("bob cannot delete an open file", bob.Delete(ctx, name), fslib.ErrLocked); err != nil {
		return err
	}
	_, err = bob.ReadFile(ctx, name)
	if err := step("bob can still read", err, nil); err != nil {
		return err
	}

	fmt.Println("\n=== Phase 3: Writes ===")
	if err := step("alice writes", alice.Write(ctx, fd, 0, []byte("written by alice")), nil); err != nil {
		return err
	}
	if err := step("alice saves", alice.Save(ctx, fd), nil); err != nil {
		return err
	}

	fmt.Println("\n=== Phase 4: Release ===")
	if err := step("alice exits", alice.Exit(ctx), nil); err != nil {
		return err
	}
	if err := step("bob takes the write lock", bob.WriteFile(ctx, name, []byte("written by bob")), nil); err != nil {
		return err
	}
	data, err := alice.ReadFile(ctx, name)
	if err := step("alice reads bob's data", err, nil); err != nil {
		return err
	}
	fmt.Printf("    contents: %q\n", trimZeros(data))

	if err := step("cleanup", bob.Delete(ctx, name), nil); err != nil {
		return err
	}
	fmt.Println("\nScenario completed")
	return nil
}
