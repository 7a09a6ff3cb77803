// Package lifecycle tracks named services and drives their
// initialize/start/stop transitions in dependency order.
//
// Services are registered once at application setup with the names of the
// services they depend on. Starting a service first initializes and starts
// its dependencies; stopping a service first stops every registered service
// that depends on it. Dependency cycles are rejected with an explicit error
// rather than recursing.
//
// Hooks are optional: a registered handle may implement any of Initializer,
// Starter, or Stopper. A handle with none of them is pure bookkeeping, which
// is useful for declaring ordering between externally managed resources.
//
// Thread Safety: all Registry methods are safe for concurrent use, though
// the expected pattern is single-threaded orchestration from main.
package lifecycle
