package queue

import "errors"

var ErrQueueFull = errors.New("prompt queue is full")
