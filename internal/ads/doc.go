// Package ads defines the core types shared by the weekly competitor-ads pipeline.
//
// A week is identified by its ending Saturday (yyyy-MM-dd). For every tracked retailer the pipeline
// resolves two archive captures, one near the Wednesday of that week ("prevWeek") and one 364 days
// earlier ("lastYear"), stores the result as a single weekly record, and later fills in screenshot
// URLs for each capture from a detached background worker.
//
// Ownership of a weekly record is split by field group. The synchronous compute path creates the
// record and owns every resolved field; the fill path only ever sets screenshotUrl on slots that have
// an archiveUrl and no screenshot yet. ApplyScreenshots is the single implementation of that rule and
// is shared by the in-process cache stores.
package ads
