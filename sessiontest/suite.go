// Package sessiontest provides a contract test suite for sshkit engines.
//
// An engine author supplies a Factory that returns a connected, authenticated
// Session plus a writable remote directory; Verify then runs every contract
// against a fresh fixture.
package sessiontest

import (
	"context"
	"fmt"
	"testing"

	"github.com/ruffel/sshkit"
)

// Standard categories for grouping tests.
const (
	CategoryCore       = "core"
	CategoryLifecycle  = "lifecycle"
	CategoryFilesystem = "filesystem"
	CategoryStreaming  = "streaming"
	CategoryErrors     = "errors"
)

// T is the minimal interface required for testify/assert and require.
type T interface {
	Errorf(format string, args ...any)
	FailNow()
	Skipf(format string, args ...any)
	Context() context.Context
	TempDir() string
	Name() string
}

// Fixture is what a contract runs against.
type Fixture struct {
	// Session is connected and authenticated. Contracts may close it.
	Session *sshkit.Session

	// Root is an absolute remote directory the contract may write to. It is
	// empty when the contract starts.
	Root string
}

// Factory builds a fresh fixture for one contract. It should register the
// session's Close with t.Cleanup.
type Factory func(t *testing.T) Fixture

// TestCase defines a single behavioral contract requirement.
type TestCase struct {
	Category    string
	Name        string
	Description string
	Run         func(t T, fx Fixture)
}

// ID returns the stable, globally unique contract identifier.
func (tc TestCase) ID() string {
	return fmt.Sprintf("%s/%s", tc.Category, tc.Name)
}

// Verify is the standard Go test entry point for engine authors.
func Verify(t *testing.T, factory Factory) {
	t.Helper()

	for _, tc := range AllContracts() {
		t.Run(tc.ID(), func(t *testing.T) {
			tc.Run(t, factory(t))
		})
	}
}

// AllContracts returns all test cases for the contract test suite.
func AllContracts() []TestCase {
	const initialCapacity = 50

	contracts := make([]TestCase, 0, initialCapacity)

	contracts = append(contracts, coreContracts()...)
	contracts = append(contracts, lifecycleContracts()...)
	contracts = append(contracts, fileContracts()...)
	contracts = append(contracts, streamContracts()...)
	contracts = append(contracts, errorContracts()...)

	return contracts
}
