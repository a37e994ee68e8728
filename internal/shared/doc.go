// Package shared holds code used across packages that belongs to no single
// layer. Today that is only the testutil subpackage, a capturing slog handler
// with assertion helpers.
package shared
