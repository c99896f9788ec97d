package utils

// ServiceName identifies this service in logs and health responses
const ServiceName = "cash-clearing"

// Version is the release reported by the health endpoint
const Version = "1.0.0"
