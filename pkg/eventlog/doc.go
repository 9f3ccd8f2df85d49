// Package eventlog provides interfaces for storing log records that remote
// peers send to this node's log targets.
//
// A log target is published through the bridge under LT:<name>. Every record
// that arrives is appended to a Store under the target name, where it gets a
// per-target offset. Records can be read back by offset or replayed through
// a channel.
//
// Example usage:
//
//	rec, err := store.Append(ctx, eventlog.NewRecord("arm", cell.LevelWarning, "stalled", "joint 2"))
//	if err != nil {
//		return err
//	}
//
//	recs, err := store.Read(ctx, "arm", 0, 100)
//	if err != nil {
//		return err
//	}
//
//	records, errs := store.Replay(ctx, "arm", 10)
//	for rec := range records {
//		fmt.Println(rec.Offset, rec.LevelName, rec.Message)
//	}
//	if err := <-errs; err != nil {
//		return err
//	}
package eventlog
