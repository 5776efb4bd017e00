package outbox

const exerciseSubmittedSchema = `{
  "type": "object",
  "title": "ExerciseSubmitted",
  "properties": {
    "idempotency_key": {"type": "string"},
    "school_id": {"type": "string"},
    "student_id": {"type": "string"},
    "exercise_type": {"type": "string", "enum": ["strength", "endurance", "flexibility"]},
    "period": {"type": "integer"},
    "month": {"type": "integer", "minimum": 1, "maximum": 12},
    "duration_seconds": {"type": ["number", "null"]},
    "accuracy": {"type": ["number", "null"]},
    "avg_bpm": {"type": ["number", "null"]},
    "max_bpm": {"type": ["number", "null"]},
    "calories": {"type": ["number", "null"]},
    "revision": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["idempotency_key", "school_id", "student_id", "exercise_type", "period", "month", "revision", "occurred_at"],
  "additionalProperties": false
}`
