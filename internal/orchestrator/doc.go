// Package orchestrator builds stage instances from configuration and drives
// them: cron triggers, live subscriptions between stages, the catch-up poll
// at startup and the run, persist and clean cycle.
//
// Each stage runs at most once at a time. A cron tick that finds its stage
// busy is dropped. Upstream notifications that arrive during a run are
// buffered and handed to one more run afterwards. Maintenance stages run
// exclusively: the orchestrator holds a global lock while they run and every
// other run waits for it.
package orchestrator
