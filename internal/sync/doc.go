// Package sync reconciles the local document store with the remote store.
//
// # Overview
//
// A run copies one owner's records in one direction:
//
//	Import:  remote store  →  local store
//	Export:  local store   →  remote store
//
// Both directions are the same pass with source and destination swapped.
// Tables are visited in Plan order, parents first:
//
//	todos      (userId = owner)
//	  tasks    (todoId ∈ ids of the todos just fetched)
//	    subtasks (taskId ∈ ids of the tasks just fetched)
//	categories (userId = owner)
//	profiles   (userId = owner)
//
// # Conflict Resolution
//
// For every source row the destination row with the same id is looked up.
// The source row is written when the destination has no such row, or when
// record.Newer reports the source as newer: updatedAt strings compare
// greater, or either side lacks updatedAt. Equal timestamps write nothing.
// Soft-deleted rows take part so deletions propagate. The backend identity
// field (_id) is stripped from every written row; the remote store reuses
// or regenerates its own.
//
// # Failure Semantics
//
// The first table that fails aborts the run. Tables written before it are
// not rolled back; the returned Report lists them and names the failed
// table. Each table attempt may be bounded by Options.TableTimeout and
// retried Options.Retries times when the error is retryable (IO or Backend).
//
// # Usage
//
//	s, err := sync.New(local, remote, sync.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	report, err := s.Export(ctx, "u1")
//	if err != nil {
//	    log.Printf("export stopped at %s after %v", report.FailedAt, report.Tables)
//	}
package sync
