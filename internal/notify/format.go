package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
)

// FormatDate renders a calendar date with its weekday.
func FormatDate(d time.Time) string {
	return d.Format("02.01.2006 (Monday)")
}

// FormatDuration renders a length in minutes
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d h", hours)
	}
	return fmt.Sprintf("%d h %d min", hours, mins)
}

// StatusDisplay is how a booking status is shown in chat.
type StatusDisplay struct {
	Emoji string
	Text  string
}

func BookingStatusDisplay(status model.BookingStatus) StatusDisplay {
	displays := map[model.BookingStatus]StatusDisplay{
		model.BookingStatusPending:   {"⏳", "Awaiting confirmation"},
		model.BookingStatusConfirmed: {"✅", "Confirmed"},
		model.BookingStatusCompleted: {"✔️", "Completed"},
		model.BookingStatusCancelled: {"❌", "Cancelled"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return StatusDisplay{"❓", "Unknown"}
}

// FormatBookingCreated builds the chat message announcing a new booking.
func FormatBookingCreated(b *model.Booking) string {
	status := BookingStatusDisplay(b.Status)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s New booking #%d\n", status.Emoji, b.ID)
	fmt.Fprintf(&sb, "Doctor: %s\n", b.DoctorID)
	fmt.Fprintf(&sb, "Hospital: %s\n", b.HospitalID)
	fmt.Fprintf(&sb, "Date: %s\n", FormatDate(b.Date))
	fmt.Fprintf(&sb, "Time: %s (%s)\n", b.Window(), FormatDuration(b.Window().Minutes()))
	fmt.Fprintf(&sb, "Status: %s", status.Text)
	return sb.String()
}
