package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
	"poly-copyrelay/internal/engine"
	"poly-copyrelay/internal/feed"
)

var markdownV2Escaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func escapeMarkdownV2(s string) string {
	return markdownV2Escaper.Replace(s)
}

func actionLabel(side clob.Side) string {
	if side == clob.SideSell {
		return "SELL"
	}
	return "BUY"
}

// FormatTradeReport renders the single notification for one processed leader
// trade: what the leader did, what the replica did, and how it ended.
func FormatTradeReport(ev feed.TradeEvent, res *engine.ExecutionResult) string {
	var b strings.Builder

	title := ev.Title
	if title == "" {
		title = ev.Market
	}

	status := "submitted"
	switch {
	case res.DryRun:
		status = "dry run"
	case res.Success:
		status = "filled"
	default:
		status = "failed: " + res.ErrorMsg
	}

	fmt.Fprintf(&b, "*%s %s*\n", actionLabel(ev.Side), escapeMarkdownV2(title))
	fmt.Fprintf(&b, "outcome: %s\n", escapeMarkdownV2(ev.Outcome))
	fmt.Fprintf(&b, "leader: %s shares @ %s\n",
		escapeMarkdownV2(ev.Size.String()), escapeMarkdownV2(ev.Price.String()))
	if ev.Side == clob.SideBuy {
		fmt.Fprintf(&b, "copy: $%s @ %s\n",
			escapeMarkdownV2(res.Spent.String()), escapeMarkdownV2(res.Price.String()))
	} else {
		fmt.Fprintf(&b, "copy: %s shares @ %s\n",
			escapeMarkdownV2(res.Shares.String()), escapeMarkdownV2(res.Price.String()))
	}
	fmt.Fprintf(&b, "status: %s", escapeMarkdownV2(status))
	if res.Success && len(res.TxHashes) > 0 {
		fmt.Fprintf(&b, "\ntx: %s", escapeMarkdownV2(res.TxHashes[0]))
	}
	return b.String()
}

// FormatSkipReport renders the notification for a trade the gate rejected.
func FormatSkipReport(ev feed.TradeEvent, reason error) string {
	title := ev.Title
	if title == "" {
		title = ev.Market
	}
	return fmt.Sprintf("*SKIP %s*\n%s\nreason: %s",
		actionLabel(ev.Side), escapeMarkdownV2(title), escapeMarkdownV2(reason.Error()))
}

// FormatSessionStarted renders the session start notification.
func FormatSessionStarted(leader string, dryRun bool) string {
	mode := "live"
	if dryRun {
		mode = "dry run"
	}
	return fmt.Sprintf("*session started* \\(%s\\)\nleader: %s", mode, escapeMarkdownV2(leader))
}

// FormatSessionStopped renders the session stop notification with final
// spend figures.
func FormatSessionStopped(spent decimal.Decimal, processed, skipped int) string {
	return fmt.Sprintf("*session stopped*\nspent: $%s\nprocessed: %d, skipped: %d",
		escapeMarkdownV2(spent.String()), processed, skipped)
}

// FormatCapReached renders the auto-stop notification when the session spend
// cap would be breached.
func FormatCapReached(spent, cap decimal.Decimal) string {
	return fmt.Sprintf("*session cap reached*\nspent: $%s of $%s cap, stopping",
		escapeMarkdownV2(spent.String()), escapeMarkdownV2(cap.String()))
}
