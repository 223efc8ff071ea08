// Package httpserver exposes the dispatch API over HTTP/JSON. Producers
// submit tasks and poll their status; operators inspect queues, dead
// letters and metrics. Route handling is organized into controllers
// registered on a single mux.
package httpserver
