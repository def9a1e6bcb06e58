// Package model holds the plain data shared by every part of the pipeline: the
// normalized Item, a stage's persisted Memory, and the Download job/result pair.
//
// Nothing in this package performs I/O.
package model
