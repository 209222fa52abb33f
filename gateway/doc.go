// Package gateway holds what the tensorscope front ends share: the
// Inspector query surface they expose, request types with their validation,
// and the mapping from classified errors to status codes and client-safe
// messages.
//
// Two gateways sit on top of it:
//
//   - gateway/http mounts the plugin routes (/tags, /scalars, /tensors,
//     /metadata, /health, /static/) under a URL prefix.
//   - gateway/nats answers the same queries over NATS request/reply on
//     <subject_prefix>.tags, <subject_prefix>.scalars and
//     <subject_prefix>.tensors.
//
// Both reply with {"error": <message>, "status": <code>} on failure. NATS
// replies carry {"status": 200, "data": <result>} on success since there is
// no status line to read. Status codes are shared:
//
//	invalid input      400
//	not found          404
//	rate limited       429
//	transient          503 (504 on deadline)
//	anything else      500
package gateway
