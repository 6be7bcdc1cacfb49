// Package cms uploads generated images to the headless CMS and patches the
// owning article document.
//
// Integration is idempotent under queue retries: before uploading anything
// the integrator fetches the article document and skips every image slot
// that already carries an asset reference, so a retried job never duplicates
// assets or overwrites an earlier run.
//
// Slot assignment follows the generator's filename convention (hero*,
// section1*..section3*) with a positional fallback for files that match
// nothing.
package cms
