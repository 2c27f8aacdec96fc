package server

import "time"

// zeroTime reads better at a banlist.AddBan call site than a bare
// time.Time{} literal: a zero expiry means "permanent" (banlist.AddBan).
var zeroTime time.Time
