// Package engine implements the deliberation engine inside the
// deliberation context.
//
// The module owns the full deliberation lifecycle: idea intake, tiered cell
// formation, point-allocation voting with seat reservations and grace
// windows, tier advancement up to a champion, rolling-mode challenge rounds,
// and comment up-pollination. It keeps business rules in application/domain
// layers and isolates infrastructure concerns behind ports and adapters.
package engine
