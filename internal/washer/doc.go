// Package washer defines the stage contract: the four stage kinds, the
// compiled-in type registry and the Base helper every concrete stage embeds.
//
// A stage type is registered once at process start with its settings schema
// and constructor. Each configured instance gets a Base carrying its id,
// parsed settings, memory and file store; the orchestrator drives the
// instance through Init, Run and Cleanup.
package washer
