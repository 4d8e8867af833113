// Package session holds an agent's conversation state: the History (ordered,
// append-only, system prompt preserving) and Store implementations that
// persist histories between process runs.
//
// The redis and sqlite sub-packages provide further Store backends.
package session
