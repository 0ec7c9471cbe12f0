// Package api exposes the encrypted entity client over HTTP.
//
// Routes:
//
//	GET    /api/status                     client identity and write queue depth
//	GET    /api/entities                   all entities, decrypted
//	GET    /api/{type}                     entities of one type, with optional filters
//	                                       minData, startTime and endTime
//	POST   /api/entities                   create from a record {type, data, from, timestamp, uuid}
//	POST   /api/messages                   create from a message {content, from, timestamp, uuid}
//	POST   /api/sensors                    create a sensor reading
//	PUT    /api/entities/{key}             update, optional expiresInHours
//	DELETE /api/entities/{key}             delete
//	POST   /api/entities/{key}/extend      extend, optional additionalHours
//	GET    /metrics                        prometheus metrics
//
// Every response is JSON with a success flag and carries permissive CORS headers.
package api
