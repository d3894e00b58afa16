// Package types provides core types used across the inboxflow engine.
// This package has ZERO dependencies on other inboxflow packages to avoid
// circular imports. All other packages should import types from here.
package types
