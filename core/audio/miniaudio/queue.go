package miniaudio

import "sync"

// playbackQueue buffers audio for the device callback and fires marks once
// the audio queued before them has been handed to the device.
type playbackQueue struct {
	mu    sync.Mutex
	audio []byte
	marks []playbackMark
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

func (q *playbackQueue) push(audio []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.audio = append(q.audio, audio...)
}

func (q *playbackQueue) mark(name string, callback func(string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.marks = append(q.marks, playbackMark{name: name, position: len(q.audio), callback: callback})
}

func (q *playbackQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.audio = nil
	q.marks = nil
}

// fill copies queued audio into out, padding with silence, and fires every
// mark that was reached.
func (q *playbackQueue) fill(out []byte) {
	q.mu.Lock()
	n := copy(out, q.audio)
	clear(out[n:])
	q.audio = q.audio[n:]
	if len(q.audio) == 0 {
		q.audio = nil
	}

	passed := 0
	for i := range q.marks {
		if q.marks[i].position <= n {
			passed++
			continue
		}
		q.marks[i].position -= n
	}
	reached := q.marks[:passed]
	q.marks = q.marks[passed:]
	q.mu.Unlock()

	if len(reached) > 0 {
		go func() {
			for _, mark := range reached {
				mark.callback(mark.name)
			}
		}()
	}
}
