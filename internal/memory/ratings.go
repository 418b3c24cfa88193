package memory

// RatingLabel names a 1-5 quality rating for display.
func RatingLabel(rating int) string {
	switch rating {
	case 5:
		return "perfect execution"
	case 4:
		return "good execution"
	case 3:
		return "average execution"
	case 2:
		return "poor execution"
	case 1:
		return "failed execution"
	default:
		return "unknown rating"
	}
}

// QualityFeedback describes what a rating means for memory admission.
func QualityFeedback(rating int) string {
	switch rating {
	case 5:
		return "Perfect. This execution becomes a template for similar future tasks."
	case 4:
		return "Good. The record was stored and will improve future executions."
	case 3:
		return "Acceptable, but not stored — below the memory quality threshold."
	case 2:
		return "Poor result. Not stored; consider retrying with a different approach."
	case 1:
		return "Failed. Not stored; check the task description or try another method."
	default:
		return "Unknown rating."
	}
}
