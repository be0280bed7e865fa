// Package core provides the tabular interchange engine for product records.
//
// The package moves product listings between a relational store and
// spreadsheet files. It has no transport dependencies; the web server and
// the CLI both drive it through [Service].
//
// # Schema
//
// [ProductFields] is the static schema table: one [FieldSpec] per record
// field, each bound to exactly one external column. [Schema] resolves the
// header order for export, preferring the canonical template file when one
// is configured, and maps headers back to fields on import.
//
// # Import
//
// [Service.ImportFile] reads a CSV, XLSX or XLS source through the
// formats registry and persists every row in one store transaction:
//
//  1. Cells are converted with [CellToValue]; blank cells stay NULL
//  2. Vendor names are resolved with get-or-create, once per import
//  3. Titles are cut at their first comma and handles derived with [Slugify]
//  4. Records are inserted in batches of [Options.BatchSize]
//  5. Image columns are collected per SKU and inserted as attachments
//
// Any failure rolls the whole import back.
//
// # Export
//
// [Service.Export] streams records in ID order, converting values with
// [ValueToCell] and expanding multi-image records with [FanOut] so each
// image lands on its own row.
//
// # Purge
//
// [Service.Purge] deletes all records in bounded chunks ordered by ID.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
// Codes are grouped by prefix: FMT (format), FILE (source file), IMP
// (import run), DB (store) and RATE (throttling).
package core
