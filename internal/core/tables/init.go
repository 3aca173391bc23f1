// Package tables registers the record schemas with the core registry.
// Import this package for its side effect.
package tables
