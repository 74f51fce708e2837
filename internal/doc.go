// Package internal contains the core implementation packages for tmplbind.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - naming: Logical template names from template URIs
//   - document: HTML parsing, marked regions and CSS selectors
//   - cache: Write-once template cache keyed by name
//   - binding: Name to region registry with change notification
//   - loader: Fetching and compiling templates and precompiled scripts
//   - scanner: Document scanning, deduplicated concurrent loading
//   - renderer: Rendering templates into bound regions
//   - binder: One binding scope wiring the above together
//   - config: Configuration loading and validation
//   - server: HTTP server with websocket live updates
//   - middleware: HTTP middleware stack and security headers
//   - watcher: File system monitoring with debouncing
//   - validation: Template URI checks
//   - errors, logging, tracing, version: Ambient support
//
// # Inter-Package Communication
//
//   - Scanner records regions in the binding registry and fills the cache
//     through the loader
//   - Renderer reads the cache and registry and writes into the document
//   - Binder owns one document with its cache, registry and scanner
//   - Server serves a binder and forwards render events to browsers
//   - Watcher triggers a fresh binder when documents or templates change
package internal
