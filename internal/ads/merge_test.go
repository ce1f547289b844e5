package ads

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleResponse() Response {
	resp := Response{WeekEnd: "2026-02-14", PrevWeekLabel: "Feb 11, 2026", LastYearLabel: "Feb 12, 2025"}
	for _, target := range DefaultRetailers()[:3] {
		entry := NewRetailerAdData(target)
		entry.PrevWeek = Snapshot{
			ArchiveURL: StringPtr("https://web.archive.org/web/20260211120000/" + target.URL),
			Timestamp:  StringPtr("20260211120000"),
			Date:       StringPtr("Feb 11, 2026 12:00 PM"),
			Label:      resp.PrevWeekLabel,
		}
		entry.LastYear = Snapshot{Label: resp.LastYearLabel}
		resp.Retailers = append(resp.Retailers, entry)
	}
	resp.Retailers[1].LastYear = Snapshot{
		ArchiveURL: StringPtr("https://web.archive.org/web/20250212120000/www.walgreens.com"),
		Timestamp:  StringPtr("20250212120000"),
		Date:       StringPtr("Feb 12, 2025 12:00 PM"),
		Label:      resp.LastYearLabel,
	}
	return resp
}

func TestPendingWork(t *testing.T) {
	t.Parallel()

	resp := sampleResponse()
	items := PendingWork(resp)
	require.Len(t, items, 4)
	require.Equal(t, WorkItem{
		RetailerIdx: 1,
		RetailerID:  "walgreens",
		Slot:        SlotLastYear,
		ArchiveURL:  "https://web.archive.org/web/20250212120000/www.walgreens.com",
	}, items[2])

	resp.Retailers[0].PrevWeek.ScreenshotURL = StringPtr("https://cdn/x.png")
	require.Len(t, PendingWork(resp), 3)
}

func TestApplyScreenshotsRules(t *testing.T) {
	t.Parallel()

	resp := sampleResponse()
	resp.Retailers[2].PrevWeek.ScreenshotURL = StringPtr("https://cdn/original.png")

	out, applied := ApplyScreenshots(resp, []ScreenshotUpdate{
		{RetailerIdx: 0, Slot: SlotPrevWeek, URL: "https://cdn/cvs-prev.png"},
		{RetailerIdx: 0, Slot: SlotLastYear, URL: "https://cdn/cvs-last.png"},
		{RetailerIdx: 2, Slot: SlotPrevWeek, URL: "https://cdn/replaced.png"},
		{RetailerIdx: 1, Slot: SlotPrevWeek, URL: ""},
		{RetailerIdx: 9, Slot: SlotPrevWeek, URL: "https://cdn/out-of-range.png"},
		{RetailerIdx: -1, Slot: SlotPrevWeek, URL: "https://cdn/negative.png"},
		{RetailerIdx: 1, Slot: Slot("nextWeek"), URL: "https://cdn/unknown.png"},
	})

	require.Equal(t, 1, applied)
	require.Equal(t, "https://cdn/cvs-prev.png", *out.Retailers[0].PrevWeek.ScreenshotURL)
	require.Nil(t, out.Retailers[0].LastYear.ScreenshotURL, "slot without archive must stay null")
	require.Equal(t, "https://cdn/original.png", *out.Retailers[2].PrevWeek.ScreenshotURL)
	require.Nil(t, out.Retailers[1].PrevWeek.ScreenshotURL)

	require.Nil(t, resp.Retailers[0].PrevWeek.ScreenshotURL, "input must not be mutated")
}

func TestApplyScreenshotsIdempotentAndCommutative(t *testing.T) {
	t.Parallel()

	a := []ScreenshotUpdate{{RetailerIdx: 0, Slot: SlotPrevWeek, URL: "https://cdn/a.png"}}
	b := []ScreenshotUpdate{
		{RetailerIdx: 1, Slot: SlotPrevWeek, URL: "https://cdn/b1.png"},
		{RetailerIdx: 1, Slot: SlotLastYear, URL: "https://cdn/b2.png"},
	}

	once, _ := ApplyScreenshots(sampleResponse(), a)
	twice, applied := ApplyScreenshots(once, a)
	require.Equal(t, once, twice)
	require.Zero(t, applied)

	ab, _ := ApplyScreenshots(sampleResponse(), a)
	ab, _ = ApplyScreenshots(ab, b)
	ba, _ := ApplyScreenshots(sampleResponse(), b)
	ba, _ = ApplyScreenshots(ba, a)
	require.Equal(t, ab, ba)
}

func TestApplyScreenshotsMonotonic(t *testing.T) {
	t.Parallel()

	resp, _ := ApplyScreenshots(sampleResponse(), []ScreenshotUpdate{
		{RetailerIdx: 0, Slot: SlotPrevWeek, URL: "https://cdn/first.png"},
	})
	resp, _ = ApplyScreenshots(resp, []ScreenshotUpdate{
		{RetailerIdx: 0, Slot: SlotPrevWeek, URL: "https://cdn/second.png"},
	})
	require.Equal(t, "https://cdn/first.png", *resp.Retailers[0].PrevWeek.ScreenshotURL)
}

func TestApplyScreenshotsFillsEmptyScreenshotURL(t *testing.T) {
	t.Parallel()

	resp := sampleResponse()
	for i := range resp.Retailers {
		for _, slot := range Slots {
			snap := resp.Retailers[i].Snapshot(slot)
			if snap.HasArchive() {
				snap.ScreenshotURL = StringPtr("")
			}
		}
	}
	items := PendingWork(resp)
	require.Len(t, items, 4)
	require.Equal(t, StateWarmIncomplete, StateOf(resp))

	updates := make([]ScreenshotUpdate, 0, len(items))
	for _, item := range items {
		updates = append(updates, ScreenshotUpdate{RetailerIdx: item.RetailerIdx, Slot: item.Slot, URL: "https://cdn/" + item.RetailerID + ".png"})
	}
	out, applied := ApplyScreenshots(resp, updates)
	require.Equal(t, 4, applied)
	require.Equal(t, "https://cdn/cvs.png", *out.Retailers[0].PrevWeek.ScreenshotURL)
	require.Empty(t, PendingWork(out))
	require.Equal(t, StateWarmComplete, StateOf(out))
}

func TestProgressAndState(t *testing.T) {
	t.Parallel()

	resp := sampleResponse()
	done, total := Progress(resp)
	require.Equal(t, 0, done)
	require.Equal(t, 4, total)
	require.Equal(t, StateWarmIncomplete, StateOf(resp))

	var updates []ScreenshotUpdate
	for _, item := range PendingWork(resp) {
		updates = append(updates, ScreenshotUpdate{RetailerIdx: item.RetailerIdx, Slot: item.Slot, URL: "https://cdn/x.png"})
	}
	filled, applied := ApplyScreenshots(resp, updates)
	require.Equal(t, 4, applied)
	require.Equal(t, StateWarmComplete, StateOf(filled))

	require.Equal(t, StateWarmComplete, StateOf(Response{}), "nothing to fill is complete")
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	resp := sampleResponse()
	clone := resp.Clone()
	*clone.Retailers[0].PrevWeek.ArchiveURL = "mutated"
	clone.Retailers[1].Name = "mutated"
	require.NotEqual(t, "mutated", *resp.Retailers[0].PrevWeek.ArchiveURL)
	require.Equal(t, "Walgreens", resp.Retailers[1].Name)
}
