// Package archive exports the override event log to S3-compatible object
// storage.
//
// Events are written as newline-delimited JSON, one object per batch, under
// <prefix>/<yyyy>/<mm>/<dd>/<first-seq>-<last-seq>.jsonl. The last exported
// sequence number is kept in the archive_cursor table and only advances
// after an upload succeeds.
//
//	uploader, err := archive.NewS3Uploader(ctx, archive.S3Config{Bucket: "warden-events", Region: "us-east-1"})
//	exporter := archive.NewExporter(db, manager.GetOverrideStore(), uploader, archive.Options{Prefix: "override-events"}, metrics, logger)
//	n, err := exporter.Run(ctx)
package archive
