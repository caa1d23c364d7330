package ledger

const memoryColumns = `
	id, content, level, category, importance, confidence, privacy, tags,
	source_llm, conversation_id, version, status, decay_profile,
	expires_at, review_due_at, event_date, notes, metadata,
	reference_count, last_referenced_at, created_at, updated_at`

const queryInsertMemory = `
	INSERT INTO memories (
		id, content, level, category, importance, confidence, privacy, tags,
		source_llm, conversation_id, version, status, decay_profile,
		expires_at, review_due_at, event_date, notes, metadata,
		reference_count, last_referenced_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const queryGetMemory = `SELECT ` + memoryColumns + ` FROM memories WHERE id = ?`

const queryListByStatus = `SELECT ` + memoryColumns + ` FROM memories WHERE status = ? ORDER BY created_at`

const queryListAll = `SELECT ` + memoryColumns + ` FROM memories ORDER BY created_at`

const queryListByConversation = `
	SELECT ` + memoryColumns + ` FROM memories
	WHERE conversation_id = ?
	ORDER BY created_at, id`

const queryUpdateMerge = `
	UPDATE memories
	SET content = ?, importance = ?, confidence = ?, tags = ?,
	    version = version + 1, expires_at = ?, updated_at = ?
	WHERE id = ?`

const queryInsertVersion = `
	INSERT INTO memory_versions (memory_id, version, content, importance, confidence, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

const queryGetVersions = `
	SELECT id, memory_id, version, content, importance, confidence, created_at
	FROM memory_versions WHERE memory_id = ? ORDER BY version`

const queryInsertReinforcement = `
	INSERT INTO reinforcements (memory_id, target_id, similarity, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(memory_id, target_id) DO NOTHING`

const queryListReinforcements = `
	SELECT memory_id, target_id, similarity
	FROM reinforcements ORDER BY memory_id, target_id`

const queryReinforcementsFor = `
	SELECT memory_id, target_id, similarity
	FROM reinforcements WHERE memory_id = ? ORDER BY target_id`

const queryInsertConflict = `
	INSERT INTO conflicts (id, memory_id, incoming_id, similarity, status, resolution, detected_at, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const queryGetConflict = `
	SELECT id, memory_id, incoming_id, similarity, status, resolution, detected_at, resolved_at
	FROM conflicts WHERE id = ?`

const queryListConflicts = `
	SELECT id, memory_id, incoming_id, similarity, status, resolution, detected_at, resolved_at
	FROM conflicts ORDER BY detected_at`

const queryListConflictsByStatus = `
	SELECT id, memory_id, incoming_id, similarity, status, resolution, detected_at, resolved_at
	FROM conflicts WHERE status = ? ORDER BY detected_at`

const queryResolveConflict = `
	UPDATE conflicts SET status = 'resolved', resolution = ?, resolved_at = ? WHERE id = ?`

const queryTouchMemories = `
	UPDATE memories
	SET reference_count = reference_count + 1, last_referenced_at = ?
	WHERE id IN (%s)`

const querySetStatus = `UPDATE memories SET status = ?, updated_at = ? WHERE id = ?`

const querySetReview = `
	UPDATE memories SET status = 'pending_review', review_due_at = ?, updated_at = ? WHERE id = ?`

const queryAdjustConfidence = `UPDATE memories SET confidence = ?, updated_at = ? WHERE id = ?`
