// Package http is the transport boundary of the client: it joins paths onto a
// base URL, applies default headers and interceptors (bearer authorization,
// request IDs), performs exactly one attempt, and turns every failure into one
// of a closed set of typed errors.
//
// Error types
//   - NetworkError: no response; Code() carries a normalized errno-style code
//     such as ECONNREFUSED or ENOTFOUND when one can be determined.
//   - TimeoutError: the request deadline elapsed or the connection timed out.
//   - HTTPError: a non-2xx response; status, body, and headers are kept.
//   - ValidationError: the request was rejected before being sent.
//   - InterceptorError: a request or response interceptor failed.
//
// Retries, backoff, and classification into the API error taxonomy happen in
// packages retry and apierror.
package http
