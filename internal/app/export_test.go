package app

// WithIDGenerator exposes withIDGenerator to the external test package.
var WithIDGenerator = withIDGenerator
