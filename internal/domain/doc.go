// Package domain defines core data models and interfaces shared across the
// identity bridge. It contains plain types (wire/state), sentinel errors and
// contracts (interfaces) only.
package domain
