package dialog

// Question-for-human bookkeeping. Open questions block the dialog
// until the human answers; answers arrive through the continuation
// path and clear the whole set.

// AddOpenQuestion records an unanswered @human question.
func (d *Dialog) AddOpenQuestion(questionID, text string) {
	d.mu.Lock()
	if d.openQuestions == nil {
		d.openQuestions = make(map[string]string)
	}
	d.openQuestions[questionID] = text
	d.mu.Unlock()
}

// OpenQuestionCount returns the number of unanswered questions.
func (d *Dialog) OpenQuestionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.openQuestions)
}

// TakeOpenQuestionSet clears and returns the unanswered questions
// keyed by id. Used to re-home a subdialog's questions on its root.
func (d *Dialog) TakeOpenQuestionSet() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.openQuestions
	d.openQuestions = nil
	return set
}

// TakeOpenQuestions clears and returns all unanswered question ids.
func (d *Dialog) TakeOpenQuestions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.openQuestions))
	for id := range d.openQuestions {
		ids = append(ids, id)
	}
	d.openQuestions = nil
	return ids
}
