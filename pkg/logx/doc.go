// Package logx is a small structured logging layer on top of zerolog.
//
// A Logger is a value: derive component loggers with With() and pass them
// down. Loggers created from a Service follow Service.Apply(), so level and
// sink changes from a config reload reach every component without rewiring.
package logx
