package eventstore

import "time"

func defaultNow() time.Time { return time.Now().UTC() }

func unixNanoToTime(ns int64) time.Time { return time.Unix(0, ns).UTC() }
