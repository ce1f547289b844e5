package ads

// PendingWork lists every slot that has a resolved capture but no screenshot yet,
// in retailer order with prevWeek before lastYear.
func PendingWork(resp Response) []WorkItem {
	var items []WorkItem
	for i := range resp.Retailers {
		entry := &resp.Retailers[i]
		for _, slot := range Slots {
			snap := entry.Snapshot(slot)
			if !snap.NeedsScreenshot() {
				continue
			}
			items = append(items, WorkItem{
				RetailerIdx: i,
				RetailerID:  entry.ID,
				Slot:        slot,
				ArchiveURL:  *snap.ArchiveURL,
			})
		}
	}
	return items
}

// ApplyScreenshots merges updates into a copy of resp and returns it with the number of
// slots that changed. A slot is only set when it has an archive URL and no screenshot URL
// (an empty screenshot URL counts as missing); out-of-range indices, unknown slots and
// empty update URLs are ignored.
func ApplyScreenshots(resp Response, updates []ScreenshotUpdate) (Response, int) {
	out := resp.Clone()
	applied := 0
	for _, u := range updates {
		if u.URL == "" || u.RetailerIdx < 0 || u.RetailerIdx >= len(out.Retailers) {
			continue
		}
		snap := out.Retailers[u.RetailerIdx].Snapshot(u.Slot)
		if snap == nil || !snap.NeedsScreenshot() {
			continue
		}
		snap.ScreenshotURL = StringPtr(u.URL)
		applied++
	}
	return out, applied
}

// Progress counts filled screenshots against slots that can have one.
func Progress(resp Response) (done, total int) {
	for i := range resp.Retailers {
		for _, slot := range Slots {
			snap := resp.Retailers[i].Snapshot(slot)
			if !snap.HasArchive() {
				continue
			}
			total++
			if snap.HasScreenshot() {
				done++
			}
		}
	}
	return done, total
}

// StateOf classifies a cached payload. A week with no resolvable captures is complete.
func StateOf(resp Response) CacheState {
	done, total := Progress(resp)
	if done < total {
		return StateWarmIncomplete
	}
	return StateWarmComplete
}
