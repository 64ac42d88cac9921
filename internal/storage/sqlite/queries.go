package sqlite

const (
	createNamespace = `INSERT INTO namespaces (name, description, upstream_url, upstream_api_key, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`

	getNamespace = `SELECT name, description, upstream_url, upstream_api_key, created_at, updated_at
FROM namespaces WHERE name = ?`

	listNamespaces = `SELECT name, description, upstream_url, upstream_api_key, created_at, updated_at
FROM namespaces ORDER BY name`

	updateNamespace = `UPDATE namespaces
SET description = ?, upstream_url = ?, upstream_api_key = ?, updated_at = ?
WHERE name = ?`

	deleteNamespace = `DELETE FROM namespaces WHERE name = ?`

	deleteTasksByNamespace = `DELETE FROM tasks WHERE namespace = ?`

	namespaceStats = `SELECT status, COUNT(*) FROM tasks WHERE namespace = ? GROUP BY status`

	createTask = `INSERT INTO tasks (id, namespace, endpoint, method, query, body, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	taskColumns = `id, namespace, endpoint, method, query, body, status, result_payload, error, created_at, dispatched_at, completed_at`

	getTask = `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	queuedTasks = `SELECT ` + taskColumns + ` FROM tasks
WHERE namespace = ? AND status = 'queued'
ORDER BY created_at ASC`

	updateTaskStatus = `UPDATE tasks SET status = ?, dispatched_at = ? WHERE id = ?`

	updateTaskResult = `UPDATE tasks
SET status = 'completed', result_payload = ?, error = NULL, completed_at = ?
WHERE id = ?`

	updateTaskError = `UPDATE tasks
SET status = 'failed', error = ?, completed_at = ?
WHERE id = ?`
)
