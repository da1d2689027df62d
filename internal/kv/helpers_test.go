package kv

import "time"

const waitFor = 2 * time.Second
